package main

import (
	"fmt"
	"os"
	"path/filepath"

	flag "github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/forever-free1/TideIKV/ckv"
	"github.com/forever-free1/TideIKV/ffi"
	"github.com/forever-free1/TideIKV/handle"
	"github.com/forever-free1/TideIKV/ingest"
	"github.com/forever-free1/TideIKV/schema"
)

// runBuild 将 YAML 文档写入索引
//
// 文档文件是一个列表，每个元素是字段名到值的映射：
//
//	- userid: u1
//	  name: Alice
//	  age: 30
func runBuild(args []string) int {
	fs := flag.NewFlagSet("build", flag.ExitOnError)

	var sf storeFlags
	sf.register(fs)
	docsFile := fs.StringP("documents", "d", "", "YAML documents file (required)")
	compact := fs.Bool("compact", false, "compact the index after loading")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: ikvctl build [options]

Description:
  Load documents into the index at --mount, creating it if needed.
  Field values are encoded according to the schema.

Options:
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitUsage
	}
	if *docsFile == "" {
		fmt.Fprintln(os.Stderr, "Error: --documents is required")
		return ExitUsage
	}

	blob, err := sf.blob()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitConfig
	}

	data, err := os.ReadFile(*docsFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitError
	}
	var docs []map[string]any
	if err := yaml.Unmarshal(data, &docs); err != nil {
		fmt.Fprintf(os.Stderr, "Error: parse documents: %v\n", err)
		return ExitError
	}

	surface := ffi.Default()
	h := surface.OpenIndex(blob)
	if h == handle.Invalid {
		fmt.Fprintln(os.Stderr, "Error: open_index failed")
		return ExitError
	}
	defer surface.CloseIndex(h)

	// 索引打开后 schema 已合并并写入挂载目录
	fields, err := schema.ReadFile(filepath.Join(sf.mount, ckv.SchemaFileName))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitError
	}

	n, err := loadDocuments(surface, h, fields, docs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitError
	}
	if err := surface.FlushWrites(h); err != nil {
		fmt.Fprintf(os.Stderr, "Error: flush: %v\n", err)
		return ExitError
	}

	fmt.Printf("loaded %d documents into %s\n", n, sf.mount)

	if *compact {
		st, err := surface.CompactIndex(h)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: compact: %v\n", err)
			return ExitError
		}
		fmt.Printf("compacted %d live values, %d -> %d bytes\n", st.LiveKeys, st.BytesBefore, st.BytesAfter)
	}
	return ExitOK
}

// loadDocuments 将文档编码为 upsert 事件逐条写入
func loadDocuments(surface *ffi.Surface, h handle.Handle, fields []schema.Field, docs []map[string]any) (int, error) {
	byName := make(map[string]schema.Field, len(fields))
	for _, f := range fields {
		byName[f.Name] = f
	}

	for i, doc := range docs {
		ev := &ingest.DataEvent{
			Type:   ingest.EventUpsert,
			Fields: make(map[string][]byte, len(doc)),
		}
		for name, v := range doc {
			field, ok := byName[name]
			if !ok {
				return i, fmt.Errorf("document %d: field %q is not in the schema", i, name)
			}
			value, err := field.EncodeValue(v)
			if err != nil {
				return i, fmt.Errorf("document %d: %w", i, err)
			}
			ev.Fields[name] = value
		}

		data, err := ingest.EncodeEvent(ev)
		if err != nil {
			return i, err
		}
		if err := surface.ProcessDataEvent(h, data); err != nil {
			return i, fmt.Errorf("document %d: %w", i, err)
		}
	}
	return len(docs), nil
}
