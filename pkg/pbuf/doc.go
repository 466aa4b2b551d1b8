// Package pbuf provides fixed-capacity packet buffers sized to one Ethernet
// frame, with an atomic ownership tag shared between interrupt and thread
// context.
//
// A [Buffer] is always in exactly one of three states:
//
//	OwnerFree → OwnerFirmware → OwnerHardware → OwnerFirmware → OwnerFree
//
// Firmware code may read or write the bytes only while the buffer is
// [OwnerFirmware]. Handing a buffer to hardware is done with [Buffer.Lend],
// which returns a [Loan] token; the endpoint driver writes into the loan and
// gives it back with [Loan.Return]. Returning the loan is the only way back
// to firmware ownership, and a returned loan cannot be used again.
//
// Ownership transitions are compare-and-swap operations and never block, so
// either side may run in interrupt context.
package pbuf
