/*
Package affiliate implements a referral program.

Affiliates self register under a unique handle and become active once
verified by the program administrator. Registered applications classify
paying customers exactly once, either as referred by an affiliate or as
organic. A classification is permanent. When the settlement engine withholds
fee units from a referred payer, part of those units is allocated to the
referring affiliate according to the configured split.

Disabling an affiliate stops future earnings but never reassigns past
classifications or distributions.
*/
package affiliate
