// Package web3 houses blockchain connectivity utilities for the trading
// agent: the chain client abstraction used to read token balances and
// on-chain registry state, ENS text record resolution, and multi-chain
// configuration helpers. Concrete EVM clients live in the ethereum
// subpackage; the provider subpackage wires configured chains into a
// registry keyed by name.
package web3
