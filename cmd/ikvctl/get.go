package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	flag "github.com/spf13/pflag"

	"github.com/forever-free1/TideIKV/buffer"
	"github.com/forever-free1/TideIKV/ckv"
	"github.com/forever-free1/TideIKV/ffi"
	"github.com/forever-free1/TideIKV/handle"
	"github.com/forever-free1/TideIKV/schema"
)

// runGet 打开索引读取一个字段值后关闭
func runGet(args []string) int {
	fs := flag.NewFlagSet("get", flag.ExitOnError)

	var sf storeFlags
	sf.register(fs)
	key := fs.StringP("key", "k", "", "primary key of the document (required)")
	field := fs.StringP("field", "f", "", "field name (required)")
	asHex := fs.Bool("hex", false, "print the raw value as hex")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: ikvctl get [options]

Description:
  Open the index, read one field value and close the index.

Examples:
  ikvctl get -m ./data -p userid -k u1 -f name

Options:
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitUsage
	}
	if *key == "" || *field == "" {
		fmt.Fprintln(os.Stderr, "Error: --key and --field are required")
		return ExitUsage
	}

	blob, err := sf.blob()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitConfig
	}

	surface := ffi.Default()
	h := surface.OpenIndex(blob)
	if h == handle.Invalid {
		fmt.Fprintln(os.Stderr, "Error: open_index failed")
		return ExitError
	}
	defer surface.CloseIndex(h)

	b := surface.GetFieldValue(h, []byte(*key), *field)
	if !b.IsPresent() {
		fmt.Fprintf(os.Stderr, "Error: %s\n", buffer.StatusText(b.Status()))
		return ExitError
	}
	value := buffer.Bytes(b)
	surface.FreeBytesBuffer(b)

	if *asHex {
		fmt.Println(hex.EncodeToString(value))
		return ExitOK
	}
	fmt.Println(formatValue(sf.mount, *field, value))
	return ExitOK
}

// formatValue 按 schema 中的字段类型格式化值，找不到类型时原样输出
func formatValue(mount, fieldName string, value []byte) string {
	fields, err := schema.ReadFile(filepath.Join(mount, ckv.SchemaFileName))
	if err != nil {
		return string(value)
	}
	for _, f := range fields {
		if f.Name != fieldName {
			continue
		}
		if v, err := f.DecodeValue(value); err == nil {
			if b, ok := v.([]byte); ok {
				return hex.EncodeToString(b)
			}
			return fmt.Sprint(v)
		}
	}
	return string(value)
}
