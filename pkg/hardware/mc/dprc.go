// Copyright 2023 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mc

import (
	"bytes"
	"fmt"

	"github.com/u-root/uio/uio"
)

const (
	cmdBaseVersion = 1
	cmdIDShift     = 4
)

// Command ids carry the API version in their low nibble.
const (
	CmdGetVersion     = 0x831<<cmdIDShift | cmdBaseVersion // DPMNG
	CmdCloseContainer = 0x800<<cmdIDShift | cmdBaseVersion // DPRC
	CmdOpenContainer  = 0x805<<cmdIDShift | cmdBaseVersion
	CmdGetObjectCount = 0x159<<cmdIDShift | cmdBaseVersion
	CmdGetObject      = 0x15a<<cmdIDShift | cmdBaseVersion
	CmdGetContainerID = 0x830<<cmdIDShift | cmdBaseVersion
)

type Version struct {
	Major, Minor, Revision uint32
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Revision)
}

// Object describes one DPAA2 object inside a container, e.g. a dpni or a
// dpmac.
type Object struct {
	Type        string
	Label       string
	ID          uint32
	Vendor      uint16
	IRQCount    uint8
	RegionCount uint8
	State       uint32
	VerMajor    uint16
	VerMinor    uint16
	Flags       uint16
}

func (o Object) String() string {
	return fmt.Sprintf("%s.%d", o.Type, o.ID)
}

func (p *Portal) GetVersion() (Version, error) {
	r, err := p.SendCommand(Command{ID: CmdGetVersion})
	if err != nil {
		return Version{}, err
	}
	l := uio.NewLittleEndianBuffer(r.Payload())
	v := Version{Revision: l.Read32(), Major: l.Read32(), Minor: l.Read32()}
	return v, l.Error()
}

// GetContainerID returns the id of the container the portal belongs to.
func (p *Portal) GetContainerID() (uint32, error) {
	r, err := p.SendCommand(Command{ID: CmdGetContainerID})
	if err != nil {
		return 0, err
	}
	return uint32(r.Params[0]), nil
}

// OpenContainer returns the token for subsequent container commands.
func (p *Portal) OpenContainer(id uint32) (uint16, error) {
	c := Command{ID: CmdOpenContainer}
	c.Params[0] = uint64(id)
	r, err := p.SendCommand(c)
	if err != nil {
		return 0, err
	}
	return r.Token, nil
}

func (p *Portal) CloseContainer(token uint16) error {
	_, err := p.SendCommand(Command{ID: CmdCloseContainer, Token: token})
	return err
}

func (p *Portal) GetObjectCount(token uint16) (int, error) {
	r, err := p.SendCommand(Command{ID: CmdGetObjectCount, Token: token})
	if err != nil {
		return 0, err
	}
	return int(uint32(r.Params[0] >> 32)), nil
}

func (p *Portal) GetObject(token uint16, index int) (Object, error) {
	c := Command{ID: CmdGetObject, Token: token}
	c.Params[0] = uint64(uint32(index))
	r, err := p.SendCommand(c)
	if err != nil {
		return Object{}, err
	}
	return decodeObject(r.Payload())
}

func decodeObject(b []byte) (Object, error) {
	var o Object
	l := uio.NewLittleEndianBuffer(b)
	l.Read32() // pad
	o.ID = l.Read32()
	o.Vendor = l.Read16()
	o.IRQCount = l.Read8()
	o.RegionCount = l.Read8()
	o.State = l.Read32()
	o.VerMajor = l.Read16()
	o.VerMinor = l.Read16()
	o.Flags = l.Read16()
	l.Read16() // pad
	o.Type = cstring(l.CopyN(16))
	o.Label = cstring(l.CopyN(16))
	return o, l.Error()
}

func cstring(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

// ListObjects opens container id and returns every object in it.
func (p *Portal) ListObjects(id uint32) ([]Object, error) {
	tok, err := p.OpenContainer(id)
	if err != nil {
		return nil, fmt.Errorf("open container %d: %w", id, err)
	}
	defer func() {
		if err := p.CloseContainer(tok); err != nil {
			log.Warnf("close container %d: %v", id, err)
		}
	}()
	n, err := p.GetObjectCount(tok)
	if err != nil {
		return nil, fmt.Errorf("container %d object count: %w", id, err)
	}
	objs := make([]Object, 0, n)
	for i := 0; i < n; i++ {
		o, err := p.GetObject(tok, i)
		if err != nil {
			return objs, fmt.Errorf("container %d object %d: %w", id, i, err)
		}
		objs = append(objs, o)
	}
	return objs, nil
}
