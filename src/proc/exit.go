package proc

import "defs"

// / Exit_process implements exit(2): closes every open file, drops the
// / cwd references, reparents live children to init, records the exit
// / status, becomes a ZOMBIE, and wakes whichever process is waiting on
// / it (its parent, sleeping on itself — see Wait_process).
func (t *Table_t) Exit_process(p *Proc_t, status int) {
	for i, fd := range p.Ofile {
		if fd != nil {
			fd.Fops.Close()
			p.Ofile[i] = nil
		}
	}
	if p.Cwd != nil {
		p.Cwd.Fs.Iput(p.Cwd.Cwd)
		p.Cwd.Fs.Iput(p.Cwd.Root)
		p.Cwd = nil
	}

	t.mu.Lock()
	for _, q := range t.procs {
		if q != nil && q.Parent == p {
			q.Parent = t.initProc
		}
	}
	p.Xstate = status
	p.State = defs.ZOMBIE
	t.mu.Unlock()

	if p.Parent != nil {
		t.Wakeup(p.Parent)
	}
}

// / Wait_process implements wait(2): parent blocks (sleeping on itself,
// / the channel its own exiting children wake) until one of its children
// / is a ZOMBIE, then reaps it — copying out its exit status, freeing
// / its PCB slot, and returning its pid. It fails with ECHILD if parent
// / has no children left (and none currently exist), and also with
// / ECHILD if parent itself was killed while waiting.
func (t *Table_t) Wait_process(parent *Proc_t, status *int) (defs.Pid_t, defs.Err_t) {
	t.mu.Lock()
	for {
		havechildren := false
		for _, c := range t.procs {
			if c == nil || c.Parent != parent {
				continue
			}
			havechildren = true
			if c.State == defs.ZOMBIE {
				pid := c.Pid
				if status != nil {
					*status = c.Xstate
				}
				t.mu.Unlock()
				t.Free_process(c)
				return pid, 0
			}
		}
		if !havechildren {
			t.mu.Unlock()
			return -1, -defs.ECHILD
		}
		if parent.Killed {
			t.mu.Unlock()
			return -1, -defs.ECHILD
		}
		t.cond.Wait()
	}
}
