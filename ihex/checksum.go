package ihex

// Checksum computes the Intel HEX record checksum: the two's complement
// of the low byte of the sum of all record bytes.
func Checksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return ^sum + 1 // 2's complement
}
