package merger

const (
	// Separator splits a key into "directories" and the object name.
	Separator = "/"
	// Dot starts the extension of an object name.
	Dot       = "."
	LineBreak = "\n"

	// SuccessMarker is the empty object a batch job writes when it is done.
	SuccessMarker = "_SUCCESS"
	// SuccessChecksumMarker is the checksum companion of SuccessMarker.
	SuccessChecksumMarker = "." + SuccessMarker + ".crc"

	// DefaultMaxLineSize bounds a single line of an input object.
	DefaultMaxLineSize = 16 * 1024 * 1024
)
