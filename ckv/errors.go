package ckv

import "errors"

var (
	// ErrFieldNotFound 字段不在 schema 中
	ErrFieldNotFound = errors.New("field not found in schema")

	// ErrMissingPrimaryKey 写入的文档没有主键字段
	ErrMissingPrimaryKey = errors.New("document is missing the primary key")

	// ErrPrimaryKeyTooLarge 主键超过 MaxPrimaryKeyLen
	ErrPrimaryKeyTooLarge = errors.New("primary key too large")

	// ErrSegmentMismatch 挂载目录中已有的分段数量与配置不一致
	ErrSegmentMismatch = errors.New("segment count does not match existing index")

	// ErrClosed 索引已关闭
	ErrClosed = errors.New("index is closed")
)
