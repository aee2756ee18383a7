package utils

import (
	"encoding/json"
	"fmt"
	"google.golang.org/protobuf/proto"
	"runtime/debug"
)

// SafeProtoMarshal 追加写入 buf，序列化结果确定，panic 转为错误
func SafeProtoMarshal[T proto.Message](buf []byte, msg T) (data []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic recovered in SafeProtoMarshal: %v\nstacktrace:\n%s", r, debug.Stack())
		}
	}()
	return proto.MarshalOptions{Deterministic: true}.MarshalAppend(buf, msg)
}

// SafeJsonUnmarshal 上游消息不可信，解码 panic 时返回错误而不是打崩消费协程
func SafeJsonUnmarshal[T any](data []byte, v *T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic recovered in SafeJsonUnmarshal: %v", r)
		}
	}()
	return json.Unmarshal(data, v)
}

func SafeJsonMarshal[T any](v T) (data []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic recovered in SafeJsonMarshal: %v\nstacktrace:\n%s", r, debug.Stack())
		}
	}()
	return json.Marshal(v)
}
