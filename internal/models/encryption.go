package models

const (
	KeySize    = 32     // AES-256
	NonceSize  = 12     // GCM standard nonce size
	TagSize    = 16     // GCM authentication tag size
	Iterations = 100000 // PBKDF2 iterations
)
