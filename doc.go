/*

Package torasuri defines interfaces used throughout the treasury service, such
as storage and time representation.

A treasury authorizes outgoing Stellar payments only after a quorum of
registered signers approves them. Members prove control of a key through a
challenge/response protocol (x/challenge) before they are recorded as signers
(x/signers). Spend proposals (x/spend) are opened against a treasury
configuration (x/treasury), collect signatures and are submitted once.

Look into this package to get a brief overview of the storage interfaces all
extensions are built on.

*/

package torasuri
