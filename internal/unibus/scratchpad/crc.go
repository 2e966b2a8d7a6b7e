package scratchpad

// crc8Table is the Dallas/Maxim 1-Wire CRC-8 lookup table
// (polynomial x^8 + x^5 + x^4 + 1, reflected 0x8C, init 0).
var crc8Table = func() [256]byte {
	var t [256]byte
	for i := range t {
		crc := byte(i)
		for _i := 0; _i < 8; _i++ {
			if crc&0x01 != 0 {
				crc = (crc >> 1) ^ 0x8C
			} else {
				crc >>= 1
			}
		}
		t[i] = crc
	}
	return t
}()

// CRC8 returns the 1-Wire CRC-8 of data. It matches OneWire::crc8 in the
// module firmware bit for bit.
func CRC8(data []byte) byte {
	var crc byte
	for _, b := range data {
		crc = crc8Table[crc^b]
	}
	return crc
}
