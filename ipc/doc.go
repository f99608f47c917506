// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package ipc implements the server side of a Unix-domain-socket IPC
// endpoint: a single listening socket multiplexing many client channels,
// readiness-driven request dispatch with one-shot rearming, and the
// descriptor-reference machinery services use to embed file handles and
// sibling channels inside message payloads.
//
// The package is Linux-only: it depends on epoll, eventfd, SO_PASSCRED
// credentials, and SCM_RIGHTS descriptor passing.
package ipc
