// Package cdc holds the USB Communications Device Class definitions shared
// by CDC subclasses: class codes, request and notification codes, and the
// functional descriptors.
//
// # CDC Descriptors
//
// The functional descriptors used by the Ethernet Control Model are:
//
//   - Header Functional Descriptor
//   - Union Functional Descriptor
//   - Ethernet Networking Functional Descriptor
//
// Every descriptor serializes with MarshalTo(buf) and never allocates.
//
// # Notifications
//
// [Notification] encodes the 8-byte header (plus optional payload) sent on
// the communication interface's interrupt IN endpoint:
//
//	n := cdc.Notification{
//	    Code:      cdc.NotificationNetworkConnection,
//	    Value:     1, // connected
//	    Interface: 0,
//	}
//	size := n.MarshalTo(buf[:])
package cdc
