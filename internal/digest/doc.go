// Package digest defines the truncated chain state and the masked-equality
// predicate used everywhere a collision is claimed.
//
// A State is three 32-bit words. Bits are numbered from the least significant
// bit of word 0 upward, so the first 32 bits of a state are word 0, the next
// 32 are word 1, and so on. A search of width N compares bits [0, N).
//
// Word 0 doubles as the carrier of two hardware conventions:
//   - the high TriggerBits bits mark a freshly injected seed (a trigger point)
//   - the low distinguished bits are zero for every reported chain point
package digest
