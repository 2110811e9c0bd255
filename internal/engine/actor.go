package engine

import (
	"time"

	"github.com/danmuck/cfdp/internal/observability"
	"github.com/danmuck/cfdp/internal/protocol/pdu"
	"github.com/danmuck/cfdp/internal/transfer"
	"github.com/rs/zerolog/log"
)

// actor is the only goroutine that touches its Transaction. Inputs arrive
// one at a time: cancel, inbound PDUs, timer expiry, and outbound steps when
// the sender has work.
type actor struct {
	e  *Engine
	en *entry
	tx *transfer.Transaction

	timer    *time.Timer
	reported int
}

func (a *actor) run() {
	defer a.e.wg.Done()
	defer close(a.en.done)

	a.timer = time.NewTimer(time.Hour)
	a.timer.Stop()
	defer a.timer.Stop()

	work := a.tx.Role() == transfer.RoleSender
	for a.tx.IsOngoing() {
		a.arm()
		select {
		case <-a.en.cancel:
			a.tx.Cancel()
			a.publish()
			continue
		default:
		}

		if work {
			select {
			case <-a.e.ctx.Done():
				a.abort()
				return
			case <-a.en.cancel:
				a.tx.Cancel()
			case p := <-a.en.inbox:
				a.tx.Handle(p)
			case <-a.timer.C:
				a.tx.OnTimeout()
			default:
				work = a.tx.Step()
				a.publish()
				continue
			}
		} else {
			select {
			case <-a.e.ctx.Done():
				a.abort()
				return
			case <-a.en.cancel:
				a.tx.Cancel()
			case p := <-a.en.inbox:
				a.tx.Handle(p)
			case <-a.timer.C:
				a.tx.OnTimeout()
			}
		}
		// any event may queue retransmissions
		work = a.tx.Role() == transfer.RoleSender
		a.publish()
	}

	a.finish()
	a.linger()
}

func (a *actor) arm() {
	d, ok := a.tx.NextTimeout()
	if !ok {
		a.timer.Stop()
		return
	}
	a.timer.Reset(d)
}

func (a *actor) publish() transfer.View {
	v := a.tx.View()
	a.en.publish(v)
	if n := v.Retransmissions - a.reported; n > 0 {
		observability.RecordRetransmissions(v.Role.String(), n)
		a.reported = v.Retransmissions
	}
	return v
}

func (a *actor) finish() {
	v := a.publish()
	observability.RecordTransactionTerminated(v.Role.String(), v.State.String(), v.Condition.String())
	if a.e.archive != nil {
		if err := a.e.archive.Put(v); err != nil {
			log.Warn().Err(err).Str("txn", v.ID.String()).Msg("engine: archive put failed")
		}
	}
	ev := log.Info()
	if v.Condition != pdu.NoError {
		ev = log.Warn()
	}
	ev.Msgf("engine.actor done txn=%s role=%s state=%s condition=%s progress=%d/%d retransmissions=%d",
		v.ID, v.Role, v.State, v.Condition, v.Progress, v.FileSize, v.Retransmissions)
}

// abort releases an actor stopped by engine shutdown before its
// transaction terminated.
func (a *actor) abort() {
	v := a.publish()
	observability.RecordTransactionAborted(v.Role.String())
	log.Debug().Str("txn", v.ID.String()).Str("state", v.State.String()).Msg("engine: actor stopped by shutdown")
}

// linger keeps a terminated acknowledged sender answering Finished PDUs
// whose ACK was lost, so the receiver can close without exhausting its
// retries.
func (a *actor) linger() {
	if a.tx.Role() != transfer.RoleSender || a.tx.Mode() != pdu.Acknowledged || a.tx.State() != transfer.StateFinished {
		return
	}
	t := time.NewTimer(a.e.cfg.linger())
	defer t.Stop()
	for {
		select {
		case <-a.e.ctx.Done():
			return
		case <-t.C:
			return
		case <-a.en.cancel:
		case p := <-a.en.inbox:
			a.tx.Handle(p)
		}
	}
}
