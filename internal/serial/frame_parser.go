package serial

import (
	"bytes"
	"errors"
)

// FrameParser 定义了一个从字节流中提取完整帧的函数类型。
// 它返回：
//   - frame: 抽取出的完整帧的有效载荷（若数据不足以组成完整帧则返回 nil）
//   - rest: 余下未处理的字节（用于下一次解析时继续累积）
//   - err:  帧已损坏（校验/长度错误）；rest 从损坏帧的起始字节开始，
//     如何重新同步由调用方决定
//
// A FrameParser must never block.
type FrameParser func(buf []byte) (frame []byte, rest []byte, err error)

// ErrCorruptFrame is returned by a FrameParser whose delimiters were found
// but whose content failed validation.
var ErrCorruptFrame = errors.New("corrupt frame")

// Framer pairs a parser with the smallest number of bytes that can hold a
// complete frame of its protocol; fewer bytes are not worth parsing.
// MaxFrameSize is the longest a frame can be on the wire: an unterminated
// frame that grows past it is treated as corrupt.
type Framer struct {
	Extract      FrameParser
	MinFrameSize int
	MaxFrameSize int
}

// 定界帧最长 256 字节（含帧头帧尾）
const delimitedMaxFrameSize = 256

// Framers 将协议 ID 映射到对应的 Framer 实现。
var Framers = map[string]Framer{
	"afproto":       {Extract: ParseAfproto, MinFrameSize: AfprotoMinFrameSize, MaxFrameSize: AfprotoMaxFrameSize},
	"customProto16": {Extract: delimited(0x16, 0x33), MinFrameSize: 3, MaxFrameSize: delimitedMaxFrameSize},
	"customProto55": {Extract: delimited(0x55, 0xCC), MinFrameSize: 3, MaxFrameSize: delimitedMaxFrameSize},
}

// LookupFramer returns the framer registered for a protocol id.
func LookupFramer(id string) (Framer, bool) {
	f, ok := Framers[id]
	return f, ok
}

// delimited 返回一个按固定帧头/帧尾查找的解析器，帧体（不含头尾）作为载荷。
func delimited(head, tail byte) FrameParser {
	return func(buf []byte) ([]byte, []byte, error) {
		// 查找帧头
		i := bytes.IndexByte(buf, head)
		if i < 0 {
			// 无帧头，杂散数据不可能再组成帧
			return nil, nil, nil
		}
		// 丢弃帧头前的杂散数据
		buf = buf[i:]
		// 查找帧尾
		j := bytes.IndexByte(buf[1:], tail)
		if j < 0 {
			// 尚未找到帧尾，保留全部数据
			return nil, buf, nil
		}
		j++
		return buf[1:j], buf[j+1:], nil
	}
}
