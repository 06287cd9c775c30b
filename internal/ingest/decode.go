package ingest

import (
	"encoding/binary"
	"fmt"

	"github.com/edgexfoundry/go-mod-core-contracts/v4/errors"
)

// PayloadWidth is the size of one encoded sample value.
const PayloadWidth = 2

// Decoder turns a packet payload into a sample value.
type Decoder func(packet []byte) (float64, error)

// ParseByteOrder maps the configuration spelling to a byte order.
func ParseByteOrder(s string) (binary.ByteOrder, error) {
	switch s {
	case "little", "":
		return binary.LittleEndian, nil
	case "big":
		return binary.BigEndian, nil
	default:
		return nil, fmt.Errorf("unsupported byte order %q", s)
	}
}

// DecodeUint16 returns a Decoder for payloads carrying exactly one unsigned
// 16-bit integer. Any other width is a malformed packet.
func DecodeUint16(order binary.ByteOrder) Decoder {
	return func(packet []byte) (float64, error) {
		if len(packet) != PayloadWidth {
			return 0, errors.NewCommonEdgeX(
				errors.KindContractInvalid,
				fmt.Sprintf("malformed packet: payload is %d bytes, want %d", len(packet), PayloadWidth),
				nil,
			)
		}
		return float64(order.Uint16(packet)), nil
	}
}

// IsMalformedPacket reports whether err came from a Decoder rejecting a
// packet.
func IsMalformedPacket(err error) bool {
	return err != nil && errors.Kind(err) == errors.KindContractInvalid
}

// IsSerialIOFailure reports whether err is the device failure that stopped
// a Reader.
func IsSerialIOFailure(err error) bool {
	return err != nil && errors.Kind(err) == errors.KindCommunicationError
}

func serialIOFailure(port, op string, err error) error {
	return errors.NewCommonEdgeX(
		errors.KindCommunicationError,
		fmt.Sprintf("serial link %s: %s failed", port, op),
		err,
	)
}
