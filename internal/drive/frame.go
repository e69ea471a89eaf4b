package drive

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/sigurn/crc8"
)

const (
	frameSync = 0xA5
	frameSize = 17
)

type kind uint8

// host to power stage
const (
	kindDrive kind = iota + 1
	kindArm
	kindDisarm
	kindCalibrateMotor
	kindCalibrateEncoder
)

// power stage to host
const (
	kindEncoder kind = iota + 0x81
	kindSensorless
	kindSample
	kindAck
)

const (
	flagFault uint8 = 1 << iota
	flagMotorCalibrated
	flagEncoderCalibrated
	flagEncoderOK
	flagSensorlessOK
	flagAckOK
)

var (
	ErrChecksum = errors.New("frame checksum mismatch")
	ErrSync     = errors.New("frame does not start with sync byte")

	crcTable = crc8.MakeTable(crc8.CRC8_MAXIM)
)

type frame struct {
	Sync    uint8
	Address uint8
	Kind    kind
	Flags   uint8
	A       float32
	B       float32
	C       float32
	CRC     uint8
}

func (f frame) encode() ([]byte, error) {
	f.Sync = frameSync
	buf := make([]byte, frameSize)
	if _, err := binary.Encode(buf, binary.LittleEndian, f); err != nil {
		return nil, err
	}

	buf[frameSize-1] = crc8.Checksum(buf[:frameSize-1], crcTable)
	return buf, nil
}

func decode(buf []byte) (frame, error) {
	var f frame
	if len(buf) < frameSize {
		return f, errors.Errorf("short frame: %d bytes", len(buf))
	}

	if buf[0] != frameSync {
		return f, ErrSync
	}

	if crc8.Checksum(buf[:frameSize-1], crcTable) != buf[frameSize-1] {
		return f, ErrChecksum
	}

	_, err := binary.Decode(buf[:frameSize], binary.LittleEndian, &f)
	return f, err
}
