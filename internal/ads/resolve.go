package ads

// Resolve maps a logical address to the index group and offset used on the
// wire. BOOL values are bit addressed and raw is passed through unchanged, so
// a single bit must be encoded by the caller (see BitAddress). Every other
// type is byte addressed with raw as the byte offset.
func Resolve(raw int, t DataType) (IndexGroup, uint32) {
	if t.IsBool() {
		return IndexGroupMemoryBit, uint32(raw)
	}
	return IndexGroupMemoryByte, uint32(raw)
}

// BitAddress encodes %MX<byteNo>.<bitNo> as a bit offset.
func BitAddress(byteNo, bitNo int) int {
	return byteNo*8 + bitNo
}
