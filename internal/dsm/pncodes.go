package dsm

const (
	pnRows = 5
	pnCols = 9
)

// pnCodes holds the spreading codes in transmit order, LSB first.
var pnCodes = [pnRows][pnCols][8]byte{
	{
		{0x03, 0xBC, 0x6E, 0x8A, 0xEF, 0xBD, 0xFE, 0xF8},
		{0x88, 0x17, 0x13, 0x3B, 0x2D, 0xBF, 0x06, 0xD6},
		{0xF1, 0x94, 0x30, 0x21, 0xA1, 0x1C, 0x88, 0xA9},
		{0xD0, 0xD2, 0x8E, 0xBC, 0x82, 0x2F, 0xE3, 0xB4},
		{0x8C, 0xFA, 0x47, 0x9B, 0x83, 0xA5, 0x66, 0xD0},
		{0x07, 0xBD, 0x9F, 0x26, 0xC8, 0x31, 0x0F, 0xB8},
		{0xEF, 0x03, 0x95, 0x89, 0xB4, 0x71, 0x61, 0x9D},
		{0x40, 0xBA, 0x97, 0xD5, 0x86, 0x4F, 0xCC, 0xD1},
		{0xD7, 0xA1, 0x54, 0xB1, 0x5E, 0x89, 0xAE, 0x86},
	},
	{
		{0x83, 0xF7, 0xA8, 0x2D, 0x7A, 0x44, 0x64, 0xD3},
		{0x3F, 0x2C, 0x4E, 0xAA, 0x71, 0x48, 0x7A, 0xC9},
		{0x17, 0xFF, 0x9E, 0x21, 0x36, 0x90, 0xC7, 0x82},
		{0xBC, 0x5D, 0x9A, 0x5B, 0xEE, 0x7F, 0x42, 0xEB},
		{0x24, 0xF5, 0xDD, 0xF8, 0x7A, 0x77, 0x74, 0xE7},
		{0x3D, 0x70, 0x7C, 0x94, 0xDC, 0x84, 0xAD, 0x95},
		{0x1E, 0x6A, 0xF0, 0x37, 0x52, 0x7B, 0x11, 0xD4},
		{0x62, 0xF5, 0x2B, 0xAA, 0xFC, 0x33, 0xBF, 0xAF},
		{0x40, 0x56, 0x32, 0xD9, 0x0F, 0xD9, 0x5D, 0x97},
	},
	{
		{0x40, 0x56, 0x32, 0xD9, 0x0F, 0xD9, 0x5D, 0x97},
		{0x8E, 0x4A, 0xD0, 0xA9, 0xA7, 0xFF, 0x20, 0xCA},
		{0x4C, 0x97, 0x9D, 0xBF, 0xB8, 0x3D, 0xB5, 0xBE},
		{0x0C, 0x5D, 0x24, 0x30, 0x9F, 0xCA, 0x6D, 0xBD},
		{0x50, 0x14, 0x33, 0xDE, 0xF1, 0x78, 0x95, 0xAD},
		{0x0C, 0x3C, 0xFA, 0xF9, 0xF0, 0xF2, 0x10, 0xC9},
		{0xF4, 0xDA, 0x06, 0xDB, 0xBF, 0x4E, 0x6F, 0xB3},
		{0x9E, 0x08, 0xD1, 0xAE, 0x59, 0x5E, 0xE8, 0xF0},
		{0xC0, 0x90, 0x8F, 0xBB, 0x7C, 0x8E, 0x2B, 0x8E},
	},
	{
		{0xC0, 0x90, 0x8F, 0xBB, 0x7C, 0x8E, 0x2B, 0x8E},
		{0x80, 0x69, 0x26, 0x80, 0x08, 0xF8, 0x49, 0xE7},
		{0x7D, 0x2D, 0x49, 0x54, 0xD0, 0x80, 0x40, 0xC1},
		{0xB6, 0xF2, 0xE6, 0x1B, 0x80, 0x5A, 0x36, 0xB4},
		{0x42, 0xAE, 0x9C, 0x1C, 0xDA, 0x67, 0x05, 0xF6},
		{0x9B, 0x75, 0xF7, 0xE0, 0x14, 0x8D, 0xB5, 0x80},
		{0xBF, 0x54, 0x98, 0xB9, 0xB7, 0x30, 0x5A, 0x88},
		{0x35, 0xD1, 0xFC, 0x97, 0x23, 0xD4, 0xC9, 0x88},
		{0x88, 0xE1, 0xD6, 0x31, 0x26, 0x5F, 0xBD, 0x40},
	},
	{
		{0xE1, 0xD6, 0x31, 0x26, 0x5F, 0xBD, 0x40, 0x93},
		{0xDC, 0x68, 0x08, 0x99, 0x97, 0xAE, 0xAF, 0x8C},
		{0xC3, 0x0E, 0x01, 0x16, 0x0E, 0x32, 0x06, 0xBA},
		{0xE0, 0x83, 0x01, 0xFA, 0xAB, 0x3E, 0x8F, 0xAC},
		{0x5C, 0xD5, 0x9C, 0xB8, 0x46, 0x9C, 0x7D, 0x84},
		{0xF1, 0xC6, 0xFE, 0x5C, 0x9D, 0xA5, 0x4F, 0xB7},
		{0x58, 0xB5, 0xB3, 0xDD, 0x0E, 0x28, 0xF1, 0xB0},
		{0x5F, 0x30, 0x3B, 0x56, 0x96, 0x45, 0xF4, 0xA1},
		{0x03, 0xBC, 0x6E, 0x8A, 0xEF, 0xBD, 0xFE, 0xF8},
	},
}

// pnBind is appended to the data code while binding.
var pnBind = [8]byte{0xC6, 0x94, 0x22, 0xFE, 0x48, 0xE6, 0x57, 0x4E}

// SOPCode returns the start-of-packet code at row, col.
func SOPCode(row, col int) [8]byte {
	return pnCodes[row][col]
}

// DataCode returns the 16-byte data code starting at row, col. The code runs
// into the following column, and past the last column into the next row.
func DataCode(row, col int) [16]byte {
	var code [16]byte
	for i := range code {
		idx := row*pnCols*8 + col*8 + i
		code[i] = pnCodes[idx/(pnCols*8)%pnRows][idx/8%pnCols][idx%8]
	}
	return code
}

// BindDataCode returns the 32-byte data code used on the bind channel.
func BindDataCode(row, col int) [32]byte {
	var code [32]byte
	data := DataCode(row, col)
	copy(code[:16], data[:])
	copy(code[16:24], pnCodes[0][8][:])
	copy(code[24:], pnBind[:])
	return code
}
