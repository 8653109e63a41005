package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	hraft "github.com/hashicorp/raft"
	flag "github.com/spf13/pflag"

	apihttp "github.com/forever-free1/TideIKV/api/http"
	"github.com/forever-free1/TideIKV/ffi"
	"github.com/forever-free1/TideIKV/handle"
	"github.com/forever-free1/TideIKV/raft"
)

// runServe 打开索引并启动管理 HTTP 服务，收到 SIGINT/SIGTERM 后退出
func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)

	var sf storeFlags
	sf.register(fs)
	addr := fs.String("addr", ":8080", "HTTP listen address")
	raftDir := fs.String("raft-dir", "", "enable single-node raft ingestion with snapshots in this directory")
	raftBind := fs.String("raft-bind", "127.0.0.1:7000", "raft TCP bind address")
	nodeID := fs.String("node-id", "node-1", "raft node id")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: ikvctl serve [options]

Description:
  Open the index at --mount and serve the admin API:
    GET  /health
    GET  /metrics
    GET  /v1/handles
    GET  /v1/handles/:handle/field?key=&field=
    POST /v1/handles/:handle/events   (msgpack data event)
    POST /v1/handles/:handle/flush
    GET  /v1/watch?prefix=

Options:
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
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

	server := apihttp.NewServer(*addr, surface)

	if *raftDir != "" {
		sess, err := surface.Session(h)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return ExitError
		}
		node, err := raft.NewNode(sess, &raft.NodeConfig{
			NodeID:    hraft.ServerID(*nodeID),
			BindAddr:  *raftBind,
			DataDir:   *raftDir,
			Bootstrap: true,
			Logger: hclog.New(&hclog.LoggerOptions{
				Name:  "ikv-raft",
				Level: hclog.LevelFromString(sf.logLevel),
			}),
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return ExitError
		}
		defer node.Close()

		if err := node.WaitForLeader(30 * time.Second); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return ExitError
		}
		server.Handler().Replicate(h, node)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()
	fmt.Printf("serving handle %d on %s\n", h, *addr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return ExitError
		}
	case <-sig:
		server.Close()
	}
	return ExitOK
}
