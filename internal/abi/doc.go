// Package abi exports the allocator the host uses to place data in the
// module's linear memory, and the C-string helpers the fixture's exports
// share. Everything but this file builds only for wasip1.
package abi
