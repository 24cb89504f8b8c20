/*
Package challenge implements proof of key control.

The server issues a transaction that can never be applied to the ledger: it
is sourced at the server account with sequence number zero and carries a
single manage data operation named "domain|member|challenge" whose source is
the claimed key. The server signs it and remembers it under its content
hash. The member counter-signs the transaction with the claimed key and
sends it back. Verification succeeds only if the hash is known and not
expired, it was issued for the same member and key, and both the server and
the member signatures verify. A challenge is consumed by the first
successful verification.
*/
package challenge
