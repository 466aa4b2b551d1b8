package device

import (
	"github.com/ardnew/softecm/pkg"
	"github.com/ardnew/softecm/pkg/pbuf"
)

// Transfer describes one outstanding operation on a data endpoint.
//
// A transfer exists from submission until its completion callback has been
// delivered to the class driver. The loan it carries is handed back to the
// class driver with the completion; the driver shim never returns or
// cancels a loan except when the endpoint is closed under it.
type Transfer struct {
	Address   uint8     // Endpoint address
	Loan      pbuf.Loan // Buffer lent for the transfer
	Offset    int       // Start offset within the buffer
	Requested int       // Requested length
	Actual    int       // Length actually transferred (OUT: from the controller)
	Status    pkg.TransferStatus
}

// Data returns the transferred region of the loaned buffer.
// Returns nil once the loan is no longer valid.
func (t *Transfer) Data() []byte {
	b := t.Loan.Bytes()
	if b == nil {
		return nil
	}
	return b[t.Offset : t.Offset+t.Actual]
}

// IsIn returns true if this is an IN transfer (device to host).
func (t *Transfer) IsIn() bool {
	return t.Address&EndpointDirectionIn != 0
}

// IsZeroLength returns true for a zero-length packet transfer.
func (t *Transfer) IsZeroLength() bool {
	return t.Requested == 0
}

// abort cancels the loan of a transfer whose endpoint was closed.
func (t *Transfer) abort() {
	t.Status = pkg.TransferStatusCancelled
	if t.Loan.Valid() {
		if err := t.Loan.Cancel(); err != nil {
			pkg.LogWarn(pkg.ComponentDriver, "abort transfer",
				"address", t.Address,
				"error", err)
		}
	}
	t.Loan = pbuf.Loan{}
}
