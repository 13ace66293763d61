// Package heartbeat lets taskd instances announce that they are alive.
//
// A BusSender publishes a Heartbeat on <prefix>.<instance> every interval,
// carrying the server status and its open session count. A BusMonitor
// subscribes to <prefix>.* and keeps the latest heartbeat per instance;
// the live board uses it to show which servers are up.
//
//	sender, _ := heartbeat.NewBusSender(heartbeat.SenderConfig{
//	    Bus:      b,
//	    Instance: "taskd-1",
//	    Sessions: ws.Sessions,
//	})
//	sender.Start(ctx)
//	defer sender.Stop()
//
// Shutdown calls Drain first, which announces StatusDraining immediately.
// A monitor treats a draining instance as gone without waiting for the
// timeout, which should be 2-3x the sender interval.
package heartbeat
