// board-sim emulates one or more UDP boards from a hardware config:
// it answers every poll frame with synthetic telemetry so the backend
// can be bench-tested without a stand. Actuator fields echo the
// desired image back, sensor fields follow a slow sine wave.
package main

import (
	"log"
	"math"
	"net"
	"os"
	"time"

	"github.com/proplab/standd/internal/config"
	"github.com/proplab/standd/internal/device"
	"github.com/proplab/standd/internal/wire"
)

func main() {
	configPath := os.Getenv("SIM_CONFIG_PATH")
	if configPath == "" {
		log.Fatal("SIM_CONFIG_PATH not set")
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	started := 0
	for name, bcfg := range cfg.Boards {
		if bcfg.UDP == nil {
			continue
		}
		go runBoardSimulator(name, bcfg)
		started++
	}
	if started == 0 {
		log.Fatal("no udp boards in config")
	}
	log.Printf("simulating %d board(s)", started)

	select {} // Wait forever
}

func runBoardSimulator(name string, bcfg *config.BoardConfig) {
	addr := net.UDPAddr{Port: bcfg.UDP.Port}
	conn, err := net.ListenUDP("udp", &addr)
	if err != nil {
		log.Fatalf("%s: listen :%d: %v", name, bcfg.UDP.Port, err)
	}
	log.Printf("%s: listening on :%d", name, bcfg.UDP.Port)

	start := time.Now()
	buf := make([]byte, 64*1024)
	for {
		n, peer, err := conn.ReadFromUDP(buf)
		if err != nil {
			log.Printf("%s: read: %v", name, err)
			continue
		}
		req, err := wire.Unmarshal(buf[:n])
		if err != nil {
			log.Printf("%s: bad frame: %v", name, err)
			continue
		}

		resp := wire.Frame{
			Seq:       req.Seq,
			Timestamp: time.Since(start).Seconds(),
			State:     answer(req.State, time.Since(start).Seconds()),
		}
		data, err := wire.Marshal(resp)
		if err != nil {
			log.Printf("%s: marshal: %v", name, err)
			continue
		}
		if _, err := conn.WriteToUDP(data, peer); err != nil {
			log.Printf("%s: write: %v", name, err)
		}
	}
}

// answer fills each requested device with synthetic readings. Fields
// present in the request (the desired image) are echoed back, as a
// real actuator board does once it applies them.
func answer(req wire.StateMap, t float64) wire.StateMap {
	out := make(wire.StateMap)
	for kindName, byName := range req {
		kind, err := device.ParseKind(kindName)
		if err != nil {
			continue
		}
		for devName, reqFields := range byName {
			for _, field := range device.Fields(kind) {
				if v, ok := reqFields[field]; ok {
					out.Set(kindName, devName, field, v)
					continue
				}
				out.Set(kindName, devName, field, synth(kind, field, t))
			}
		}
	}
	return out
}

func synth(kind device.Kind, field string, t float64) any {
	switch kind {
	case device.Solenoid, device.Pyro:
		return false
	case device.TVC:
		if field == "armed" {
			return false
		}
		if field == "state" {
			return "idle"
		}
		return 0.0
	case device.GPS:
		return 0.0
	}
	// raw-count style reading drifting around mid-scale
	return 2000.0 + 500.0*math.Sin(t/3.0)
}
