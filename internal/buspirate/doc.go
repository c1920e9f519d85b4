// Package buspirate drives a Bus Pirate v3 through its interactive text menu
// into raw SPI master mode and then uses it as a byte transport.
//
// The adapter offers no way to ask which menu it is in, so a Session only
// knows the adapter state by having sent every command in order and having
// seen every expected prompt. Any prompt that does not arrive in time moves
// the session to StateFaulted; the caller must discard it and open a new one.
package buspirate
