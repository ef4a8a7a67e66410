// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package registry

import (
	"runtime"

	pkgerrors "github.com/pkg/errors"
	"github.com/vishvananda/netns"

	"github.com/DataDog/bpftuned/pkg/bpftuneerr"
)

// NamespaceResolver resolves a namespace cookie to an OS network namespace
// handle. The namespace tracker identifies namespaces by cookie; the
// resolver is the boundary that turns a cookie into something the host OS
// can actually switch into.
type NamespaceResolver interface {
	Resolve(cookie int64) (netns.NsHandle, error)
}

// NamespacedWriter wraps a Writer so every Read/Write transiently switches
// the calling OS thread's active network namespace to the one identified
// by cookie, per the namespace entry mechanic: enter, perform the sysctl
// I/O, then restore the original namespace.
type NamespacedWriter struct {
	base     Writer
	resolver NamespaceResolver
	cookie   int64
}

// ForNamespace returns a Writer that performs every operation inside the
// namespace cookie resolves to.
func (w *NamespacedWriter) ForNamespace(cookie int64) *NamespacedWriter {
	return &NamespacedWriter{base: w.base, resolver: w.resolver, cookie: cookie}
}

// NewNamespacedWriter builds a NamespacedWriter over base, using resolver
// to turn cookies into namespace handles.
func NewNamespacedWriter(base Writer, resolver NamespaceResolver) *NamespacedWriter {
	return &NamespacedWriter{base: base, resolver: resolver}
}

func (w *NamespacedWriter) withNamespace(fn func() error) error {
	target, err := w.resolver.Resolve(w.cookie)
	if err != nil {
		return pkgerrors.Wrap(bpftuneerr.ErrNamespaceEnterFailed, err.Error())
	}

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	original, err := netns.Get()
	if err != nil {
		return pkgerrors.Wrap(bpftuneerr.ErrNamespaceEnterFailed, err.Error())
	}
	defer original.Close()

	if err := netns.Set(target); err != nil {
		return pkgerrors.Wrap(bpftuneerr.ErrNamespaceEnterFailed, err.Error())
	}
	defer netns.Set(original)

	return fn()
}

// Read performs base.Read inside the target namespace.
func (w *NamespacedWriter) Read(name string, arity int) ([3]int64, error) {
	var out [3]int64
	err := w.withNamespace(func() error {
		var innerErr error
		out, innerErr = w.base.Read(name, arity)
		return innerErr
	})
	return out, err
}

// Write performs base.Write inside the target namespace. The operation
// succeeds or fails atomically per namespace: a failure to enter the
// namespace never partially applies the write.
func (w *NamespacedWriter) Write(name string, arity int, values [3]int64) error {
	return w.withNamespace(func() error {
		return w.base.Write(name, arity, values)
	})
}

var _ Writer = (*NamespacedWriter)(nil)
