// ikvctl 是索引的命令行工具：构建索引、读取字段、启动管理服务。
package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/forever-free1/TideIKV/config"
)

const (
	ExitOK     = 0
	ExitError  = 1
	ExitUsage  = 2
	ExitConfig = 3
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: ikvctl <command> [options]

Commands:
  build   Load YAML documents into an index
  get     Read one field of one document
  serve   Open an index and serve the admin HTTP API

Run 'ikvctl <command> --help' for command options.
`)
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(ExitUsage)
	}

	args := os.Args[2:]
	switch os.Args[1] {
	case "build":
		os.Exit(runBuild(args))
	case "get":
		os.Exit(runGet(args))
	case "serve":
		os.Exit(runServe(args))
	case "-h", "--help", "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(ExitUsage)
	}
}

// storeFlags 是各子命令共用的索引配置参数
type storeFlags struct {
	mount       string
	primaryKey  string
	schemaFile  string
	storeName   string
	numSegments int
	compression string
	indexType   string
	logLevel    string
	logFile     string
}

func (f *storeFlags) register(fs *flag.FlagSet) {
	fs.StringVarP(&f.mount, "mount", "m", "", "index mount directory (required)")
	fs.StringVarP(&f.primaryKey, "primary-key", "p", "", "primary key field name (required)")
	fs.StringVar(&f.schemaFile, "schema", "", "YAML schema file")
	fs.StringVar(&f.storeName, "store-name", config.DefaultStoreName, "store name used in logs")
	fs.IntVar(&f.numSegments, "num-segments", config.DefaultNumSegments, "number of storage segments")
	fs.StringVar(&f.compression, "compression", "none", "value compression: none|snappy|zstd")
	fs.StringVar(&f.indexType, "index-type", "art", "in-memory index: art|map")
	fs.StringVar(&f.logLevel, "log-level", "warn", "log level: error|warn|info|debug")
	fs.StringVar(&f.logFile, "log-file", "", "append logs to this file")
}

// blob 生成 open_index 使用的配置块
func (f *storeFlags) blob() ([]byte, error) {
	opts := []config.Option{
		config.WithMountDirectory(f.mount),
		config.WithPrimaryKey(f.primaryKey),
		config.WithStoreName(f.storeName),
		config.WithNumSegments(f.numSegments),
		config.WithCompression(f.compression),
		config.WithIndexType(f.indexType),
		config.WithLogLevel(f.logLevel),
	}
	if f.logFile != "" {
		opts = append(opts, config.WithLogFile(f.logFile))
	}
	if f.schemaFile != "" {
		doc, err := os.ReadFile(f.schemaFile)
		if err != nil {
			return nil, fmt.Errorf("读取 schema 文件失败: %w", err)
		}
		opts = append(opts, config.WithSchema(string(doc)))
	}

	c := config.New(opts...)
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c.Encode()
}
