// Package pkframe owns the PK Command wire contract: the fixed ASCII
// frame layout and the base-94 message-ID codec.
//
// Ownership boundary:
// - frame encode/decode (this package never validates chain semantics
//   such as role, phase, or object existence — that is pkengine's job)
// - message-ID base-94 encode/decode/increment
package pkframe
