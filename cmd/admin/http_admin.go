package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

func statsCmd(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)
	os.Exit(callServer(http.MethodGet, *baseURL, "/v1/stats", 5*time.Second))
}

// exportCmd asks a running server to write its cached chunks to a region file.
func exportCmd(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	timeout := fs.Duration("timeout", 30*time.Second, "request timeout")
	_ = fs.Parse(args)
	os.Exit(callServer(http.MethodPost, *baseURL, "/admin/v1/export", *timeout))
}

// callServer prints the response body and returns the process exit code.
func callServer(method, baseURL, path string, timeout time.Duration) int {
	u := strings.TrimRight(strings.TrimSpace(baseURL), "/") + path
	req, err := http.NewRequest(method, u, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		return 2
	}
	cl := &http.Client{Timeout: timeout}
	resp, err := cl.Do(req)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		return 1
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Println(strings.TrimSpace(string(b)))
	if resp.StatusCode/100 != 2 {
		return 1
	}
	return 0
}
