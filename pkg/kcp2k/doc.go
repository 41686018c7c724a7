// Package kcp2k provides a reliable-plus-unreliable message transport
// over UDP for low-latency, high-frequency traffic such as multiplayer
// game servers.
//
// Two endpoint roles share one wire protocol: a Server listens on a UDP
// socket and multiplexes many peers by remote address, a Client keeps a
// single peer to a known server. Both expose the same model: submit a
// message on a channel, receive callbacks for connect, data, disconnect,
// and error events.
//
// # Creating a server
//
//	var server *kcp2k.Server
//	server, err := kcp2k.NewServer(kcp2k.DefaultConfig(), "0.0.0.0:3100", kcp2k.Callbacks{
//	    OnConnected: func(id uint64) { log.Printf("connected: %d", id) },
//	    OnData: func(id uint64, data []byte, ch message.Channel) {
//	        // echo back on the same channel
//	        server.Send(id, data, ch)
//	    },
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := server.Start(); err != nil {
//	    log.Fatal(err)
//	}
//	for {
//	    server.Tick()
//	    time.Sleep(20 * time.Millisecond)
//	}
//
// # Creating a client
//
//	client, err := kcp2k.NewClient(kcp2k.DefaultConfig(), "127.0.0.1:3100", callbacks)
//	...
//	client.Connect()
//	client.Send([]byte("hi"), message.ChannelReliable)
//
// # Scheduling
//
// An endpoint has no internal scheduler. The caller drives it by
// invoking Tick periodically, typically every Config.Interval. All
// state mutation happens on the ticking goroutine; callbacks fire
// synchronously from Tick, Send, and the explicit close calls
// (CloseConnection, Disconnect). Distinct endpoints are independent
// and may be driven from distinct goroutines.
package kcp2k
