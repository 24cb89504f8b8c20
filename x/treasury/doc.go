/*
Package treasury holds the per treasury spending policy.

A Config is created once during setup and never changed afterwards. It names
the Stellar account that owns the funds, the administrator, the threshold
below which a spend needs a single approval and the quorum policy for all
larger spends.
*/
package treasury
