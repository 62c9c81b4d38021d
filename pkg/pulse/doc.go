/*
Package pulse provides an in-process, priority-aware event dispatcher
paired with an adaptive, drift-compensated heartbeat scheduler.

# Overview

pulse decouples event producers from consumers while guaranteeing strict
priority ordering of delivery. Events are enqueued into four priority
levels (Critical, High, Medium, Low) and drained by a single loop that
always serves the highest-priority non-empty level, FIFO within a level.
A message router classifies each event as direct (synchronous fan-out to
subscribers) or distributed (handed to a load balancer that steers traffic
away from recently-failing channels). A performance monitor accumulates
per-event-name latency and error metrics and raises observational alerts.

The heartbeat engine is an independent periodic scheduler. It ticks at a
configured frequency, compensates scheduling jitter by absorbing observed
drift into the next delay while advancing its expected-time baseline by a
fixed increment, and speeds up under load via UpdateLoad.

# Basic Usage

Create a dispatcher, subscribe, and emit:

	d, err := pulse.New()
	if err != nil {
	    log.Fatal(err)
	}
	defer d.Close()

	d.Subscribe("order.created", func(ctx context.Context, payload any) error {
	    fmt.Println("got order:", payload)
	    return nil
	})

	d.Emit(context.Background(), "order.created", order, pulse.WithPriority(pulse.High))

# Scope Gating

Payloads may declare a required authorization scope by implementing
ScopedPayload (or carrying a "required_scope" key in a map payload).
Emit drops the event and returns false when the caller's context lacks
the scope; the drop is recorded best-effort through the configured
audit sink.

	ctx := pulse.WithScopes(context.Background(), "orders:write")
	ok := d.Emit(ctx, "order.created", payload)

# Heartbeat

	hb, err := pulse.NewHeartbeat(pulse.WithBaseHz(10), pulse.WithSurgeHz(100))
	if err != nil {
	    log.Fatal(err)
	}
	hb.OnBeat(func(b pulse.Beat) {
	    fmt.Println("drift:", b.Drift)
	})
	hb.Start()
	defer hb.Stop()

	hb.UpdateLoad(0.9) // switches to surge rate

# Error Handling

Nothing at the dispatch layer is fatal. Handler failures are caught at the
per-event boundary and surfaced on Errors(); access-denied emits return
false; an exhausted load balancer falls back to inline processing. Only
construction-time misconfiguration returns an error.
*/
package pulse
