package protocol

import "github.com/google/uuid"

// AckResult is the outcome reported back to a producer for a PUT.
type AckResult int

const (
	AckResultSuccess AckResult = iota
	AckResultUnknown
	AckResultTimeout
	AckResultNotConnected
	AckResultCanceled
	AckResultNotSupported
	AckResultRefused
	AckResultInvalidArgument
	AckResultNotReady
	AckResultLimitMessages
	AckResultLimitBytes
	AckResultStorageFailure
)

func (r AckResult) String() string {
	switch r {
	case AckResultSuccess:
		return "SUCCESS"
	case AckResultTimeout:
		return "TIMEOUT"
	case AckResultNotConnected:
		return "NOT_CONNECTED"
	case AckResultCanceled:
		return "CANCELED"
	case AckResultNotSupported:
		return "NOT_SUPPORTED"
	case AckResultRefused:
		return "REFUSED"
	case AckResultInvalidArgument:
		return "INVALID_ARGUMENT"
	case AckResultNotReady:
		return "NOT_READY"
	case AckResultLimitMessages:
		return "LIMIT_MESSAGES"
	case AckResultLimitBytes:
		return "LIMIT_BYTES"
	case AckResultStorageFailure:
		return "STORAGE_FAILURE"
	default:
		return "UNKNOWN"
	}
}

// ackResult <-> wire status code. The wire code is stable across releases;
// the enum above is free to grow.
var ackResultToCode = map[AckResult]int32{
	AckResultSuccess:         0,
	AckResultLimitMessages:   1,
	AckResultLimitBytes:      2,
	AckResultRefused:         3,
	AckResultInvalidArgument: 4,
	AckResultStorageFailure:  5,
	AckResultNotReady:        6,
	AckResultTimeout:         7,
	AckResultUnknown:         8,
}

// AckResultToCode maps status to its wire code. Unmapped values report as
// unknown.
func AckResultToCode(status AckResult) int32 {
	if code, ok := ackResultToCode[status]; ok {
		return code
	}
	return ackResultToCode[AckResultUnknown]
}

// AckResultFromCode is the inverse mapping.
func AckResultFromCode(code int32) AckResult {
	for status, c := range ackResultToCode {
		if c == code {
			return status
		}
	}
	return AckResultUnknown
}

// MessageGUID identifies one message across the cluster.
type MessageGUID [16]byte

func NewMessageGUID() MessageGUID { return MessageGUID(uuid.New()) }

func (g MessageGUID) String() string { return uuid.UUID(g).String() }

// PutHeader is the parsed prefix of a PUT message as the control plane sees
// it; payload bytes past the header are opaque here.
type PutHeader struct {
	QueueID       int32
	CorrelationID int32
	MessageGUID   MessageGUID
	Flags         uint32
}

// AckMessage is one entry of an ACK event.
type AckMessage struct {
	Status        int32
	CorrelationID int32
	MessageGUID   MessageGUID
	QueueID       int32
}

// NewAckMessage builds an ack for the PUT identified by header.
func NewAckMessage(status int32, header PutHeader) AckMessage {
	return AckMessage{
		Status:        status,
		CorrelationID: header.CorrelationID,
		MessageGUID:   header.MessageGUID,
		QueueID:       header.QueueID,
	}
}
