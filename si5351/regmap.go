// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

package si5351

import "github.com/pkg/errors"

// RegisterMap is an in-memory model of the Si5351 register file. It implements
// drivers.I2C: the first byte written selects a register, the following bytes
// are stored in consecutive registers and reads continue from there.
//
type RegisterMap struct {
	Regs    [256]byte
	Addr    uint16 // if not 0, transfers to any other address fail
	Txs     int    // number of successful transfers
	Pending int    // reported by TxPending
	Err     error  // returned by Tx
}

// Tx implements drivers.I2C.
//
func (m *RegisterMap) Tx(addr uint16, w, r []byte) error {
	if m.Err != nil {
		return m.Err
	}
	if m.Addr != 0 && addr != m.Addr {
		return errors.Errorf("no device at address %#x", addr)
	}
	m.Txs++
	if len(w) == 0 {
		return nil
	}
	reg := int(w[0])
	for i, v := range w[1:] {
		m.Regs[(reg+i)&0xff] = v
	}
	for i := range r {
		r[i] = m.Regs[(reg+len(w)-1+i)&0xff]
	}
	return nil
}

// ReadRegister implements drivers.I2C.
//
func (m *RegisterMap) ReadRegister(addr uint8, r uint8, buf []byte) error {
	return m.Tx(uint16(addr), []byte{r}, buf)
}

// WriteRegister implements drivers.I2C.
//
func (m *RegisterMap) WriteRegister(addr uint8, r uint8, buf []byte) error {
	return m.Tx(uint16(addr), append([]byte{r}, buf...), nil)
}

// TxPending returns m.Pending.
//
func (m *RegisterMap) TxPending() int { return m.Pending }

// PLL returns the multiplier currently programmed for pll.
//
func (m *RegisterMap) PLL(pll PLL) float64 {
	reg := pll.Register()
	return DecodePLL(m.Regs[reg : reg+8])
}
