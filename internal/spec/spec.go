package spec

// Steganography constants
const (
	HEADER_SIZE   = 4 // Big-endian uint32 payload length
	HEADER_BITS   = HEADER_SIZE * BITS_PER_BYTE
	BITS_PER_BYTE = 8 // Standard byte size
	CHANNELS      = 3 // Writable channels per pixel (R, G, B)
	PIXEL_SIZE    = 4 // Bytes per RGBA pixel
	ALPHA_OFFSET  = 3 // Index of alpha inside a pixel
)

// DefaultSentinel terminates every frame so extraction can detect tampering.
var DefaultSentinel = []byte{0xFF, 0xFE}

// Default cover image used when a sender supplies none
const (
	COVER_WIDTH  = 64
	COVER_HEIGHT = 64
	COVER_R      = 90
	COVER_G      = 130
	COVER_B      = 180
	COVER_A      = 255
)

// Security constants
const (
	SALT_SIZE    = 32     // Salt for PBKDF2
	NONCE_SIZE   = 12     // GCM nonce size
	KEY_SIZE     = 32     // AES-256 key size
	TAG_SIZE     = 16     // GCM authentication tag
	PBKDF2_ITERS = 100000 // PBKDF2 iterations (adjustable for security/speed)

	// Magic bytes identifying a sealed private key file
	MAGIC_HEADER = 0xDEADBEEF

	MIN_PASSPHRASE = 8
)

// Mailbox constants
const (
	DEFAULT_DOMAIN    = "covert.example.com"
	KEY_RECORD_LABEL  = "_hermkey"
	MAILBOX_RETENTION = 24 // hours
)
