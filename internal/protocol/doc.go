// Package protocol owns the CFDP wire contract and parsing primitives.
//
// Ownership boundary:
// - pdu: fixed header, directive bodies, file data, decode errors
// - tlv: type-length-value and length-value primitives
// - checksum: file checksum algorithms
package protocol
