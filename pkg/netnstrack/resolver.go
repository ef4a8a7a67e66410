// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package netnstrack

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netns"
	"golang.org/x/sys/unix"
)

// DirResolver resolves a namespace cookie to a handle by scanning a
// directory of bind-mounted namespace files — the layout `ip netns`
// itself maintains under /var/run/netns — and reading each candidate's
// kernel-assigned cookie via SO_NETNS_COOKIE.
type DirResolver struct {
	dir string
}

// NewDirResolver returns a resolver scanning dir (typically
// "/var/run/netns").
func NewDirResolver(dir string) *DirResolver {
	return &DirResolver{dir: dir}
}

// Resolve satisfies registry.NamespaceResolver. The caller owns the
// returned handle and must Close it.
func (d *DirResolver) Resolve(cookie int64) (netns.NsHandle, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return netns.None(), err
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(d.dir, e.Name())

		h, err := netns.GetFromPath(path)
		if err != nil {
			continue
		}

		if !isNetworkNamespace(h) {
			h.Close()
			continue
		}

		c, err := cookieOf(h)
		if err != nil {
			h.Close()
			continue
		}
		if c == cookie {
			return h, nil
		}
		h.Close()
	}

	return netns.None(), fmt.Errorf("no namespace under %s has cookie %d", d.dir, cookie)
}

// isNetworkNamespace guards against d.dir containing stray bind mounts
// that aren't net namespaces (mount namespaces saved alongside, for
// example): a real net namespace always has a loopback link.
func isNetworkNamespace(h netns.NsHandle) bool {
	nl, err := netlink.NewHandleAt(h)
	if err != nil {
		return false
	}
	defer nl.Close()

	_, err = nl.LinkByName("lo")
	return err == nil
}

// cookieOf reads the kernel's net namespace cookie for handle h by
// transiently entering it and reading SO_NETNS_COOKIE off a scratch
// socket, mirroring the same namespace-entry mechanic the write path
// uses.
func cookieOf(h netns.NsHandle) (int64, error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	original, err := netns.Get()
	if err != nil {
		return 0, err
	}
	defer original.Close()
	defer netns.Set(original)

	if err := netns.Set(h); err != nil {
		return 0, err
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	if err != nil {
		return 0, err
	}
	defer unix.Close(fd)

	cookie, err := unix.GetsockoptUint64(fd, unix.SOL_SOCKET, unix.SO_NETNS_COOKIE)
	if err != nil {
		return 0, err
	}
	return int64(cookie), nil
}
