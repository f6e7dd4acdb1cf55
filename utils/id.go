package utils

import (
	"github.com/oklog/ulid/v2"
)

// NewID 生成按时间排序的 ULID 字符串
func NewID() string {
	return ulid.Make().String()
}

// ValidID 判断是否为合法 ULID
func ValidID(id string) bool {
	_, err := ulid.ParseStrict(id)
	return err == nil
}
