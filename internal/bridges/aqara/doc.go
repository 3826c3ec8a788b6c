// Package aqara implements the Aqara (Lumi) gateway bridge for Gray Logic.
//
// Aqara gateways speak a plaintext JSON-over-UDP protocol on the local
// network. The bridge discovers gateways by multicast, learns which devices
// each gateway owns, decodes their reports into semantic readings, and sends
// authorised write commands back to switches and plugs.
//
// # Architecture
//
//	┌──────────────┐  Accessories  ┌──────────────┐   UDP 9898 / 224.0.0.50:4321
//	│  accessory   │◄─────────────►│ Aqara Bridge │◄──────────────────────────► Gateways
//	│    layer     │   handles     │  (this pkg)  │
//	└──────────────┘               └──────────────┘
//
// # Protocol
//
// Every datagram is a single JSON object with a "cmd" field. The "data"
// field is itself a JSON document encoded as a string and is parsed a second
// time:
//
//	{"cmd":"report","model":"sensor_ht","sid":"158d0001","data":"{\"temperature\":\"2150\"}"}
//
// Discovery runs whois -> iam -> get_id_list -> get_id_list_ack -> read.
// Writes carry a key derived from the gateway password and its current
// session token (see DeriveKey).
//
// # Concurrency
//
// All registry, session and commander state is owned by a single event-loop
// goroutine started by Bridge.Start. The UDP reader, the accessory layer and
// the HTTP API hand work to that goroutine and never touch the state
// directly.
package aqara
