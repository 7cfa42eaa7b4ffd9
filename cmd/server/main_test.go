package main

import (
	"bytes"
	"errors"
	"flag"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/NicolasHaas/mqchat/pkg/server"
)

func TestParseFlagsOverridesConfig(t *testing.T) {
	cfg := server.DefaultConfig()
	opts, err := parseFlags([]string{
		"-max-rooms", "4",
		"-transport", "memory",
		"-db", "",
		"-audit", "-audit-room", "lobby",
	}, &cfg, io.Discard)
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}

	want := server.DefaultConfig()
	want.MaxRooms = 4
	want.Transport = "memory"
	want.DBPath = ""
	want.Audit = true
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
	if opts.auditRoom != "lobby" {
		t.Errorf("auditRoom = %q, want lobby", opts.auditRoom)
	}
}

func TestParseFlagsRejectsBadInvocation(t *testing.T) {
	tests := map[string][]string{
		"unknown flag":    {"-nope"},
		"stray argument":  {"extra"},
		"invalid project": {"-key-project", "AB"},
		"zero rooms":      {"-max-rooms", "0"},
		"bad transport":   {"-transport", "tcp"},
	}
	for name, args := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := server.DefaultConfig()
			if _, err := parseFlags(args, &cfg, io.Discard); err == nil {
				t.Fatalf("parseFlags(%v) succeeded", args)
			}
		})
	}
}

func TestParseFlagsHelp(t *testing.T) {
	cfg := server.DefaultConfig()
	var stderr bytes.Buffer
	_, err := parseFlags([]string{"-h"}, &cfg, &stderr)
	if !errors.Is(err, flag.ErrHelp) {
		t.Fatalf("err = %v, want flag.ErrHelp", err)
	}
	if !bytes.Contains(stderr.Bytes(), []byte("-rooms-file")) {
		t.Errorf("usage does not list -rooms-file:\n%s", stderr.String())
	}
}
