package bitcask

import "errors"

// ErrInvalidEntry 表示无效或不完整的 Entry 数据
var ErrInvalidEntry = errors.New("invalid entry data")

// ErrCRCMismatch 表示 CRC 校验失败
var ErrCRCMismatch = errors.New("CRC checksum mismatch")

// ErrFileClosed 表示文件已关闭
var ErrFileClosed = errors.New("file is closed")

// ErrDBClosed 表示数据库已关闭
var ErrDBClosed = errors.New("db is closed")

// ErrValueTooLarge 表示值超过单条记录的上限
var ErrValueTooLarge = errors.New("value too large")
