package kernel

type processInfo struct {
	uid uint32
	gid uint16
}

func (k *Kernel) process(pid ProcessID) (*processInfo, error) {
	if pid >= MaxProcesses {
		return nil, ErrInvalidArg
	}
	return &k.procs[pid], nil
}

// GetUID returns the user id of the calling process.
func (c *Context) GetUID() (uint32, error) {
	state := c.k.critical()
	defer c.k.irq.Restore(state)
	p, err := c.k.process(c.pid)
	if err != nil {
		return 0, err
	}
	return p.uid, nil
}

// GetGID returns the group id of the calling process.
func (c *Context) GetGID() (uint16, error) {
	state := c.k.critical()
	defer c.k.irq.Restore(state)
	p, err := c.k.process(c.pid)
	if err != nil {
		return 0, err
	}
	return p.gid, nil
}

// SetUID sets the user id of pid. Only the kernel and ES may do this.
func (c *Context) SetUID(pid ProcessID, uid uint32) error {
	state := c.k.critical()
	defer c.k.irq.Restore(state)
	if c.pid != KernelPID && c.pid != ESPID {
		return ErrAccessDenied
	}
	p, err := c.k.process(pid)
	if err != nil {
		return err
	}
	p.uid = uid
	return nil
}

// SetGID sets the group id of pid. Only the kernel and ES may do this.
func (c *Context) SetGID(pid ProcessID, gid uint16) error {
	state := c.k.critical()
	defer c.k.irq.Restore(state)
	if c.pid != KernelPID && c.pid != ESPID {
		return ErrAccessDenied
	}
	p, err := c.k.process(pid)
	if err != nil {
		return err
	}
	p.gid = gid
	return nil
}
