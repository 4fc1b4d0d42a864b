// Command node starts a quorumchain validator.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/tolelom/quorumchain/config"
	"github.com/tolelom/quorumchain/consensus"
	"github.com/tolelom/quorumchain/core"
	"github.com/tolelom/quorumchain/crypto/certgen"
	"github.com/tolelom/quorumchain/events"
	"github.com/tolelom/quorumchain/index"
	"github.com/tolelom/quorumchain/network"
	"github.com/tolelom/quorumchain/rpc"
	"github.com/tolelom/quorumchain/runtime"
	"github.com/tolelom/quorumchain/storage"
	"github.com/tolelom/quorumchain/store"
	"github.com/tolelom/quorumchain/transport"
	"github.com/tolelom/quorumchain/verifier"
	"github.com/tolelom/quorumchain/wallet"
)

func main() {
	cfgPath := flag.String("config", "config.json", "path to config file")
	keyPath := flag.String("key", "", "path to keystore file (overrides config's producer_key)")
	genKey := flag.Bool("genkey", false, "generate a new validator key and exit")
	genCerts := flag.String("gencerts", "", "generate CA + node TLS certs into the given directory and exit (requires node ID from config)")
	flag.Parse()

	// Read keystore password from environment (not CLI flags — they leak via ps).
	password := os.Getenv("QUORUMCHAIN_PASSWORD")
	if password == "" {
		log.Println("WARNING: QUORUMCHAIN_PASSWORD not set — keystore will use an empty password")
	}

	if *genKey {
		genKeyPath := *keyPath
		if genKeyPath == "" {
			genKeyPath = "validator.key"
		}
		w, err := wallet.Generate()
		if err != nil {
			log.Fatal(err)
		}
		if err := wallet.SaveKey(genKeyPath, password, w.PrivKey()); err != nil {
			log.Fatal(err)
		}
		fmt.Printf("Generated key. Public key (validator id): %s\n", w.PubKey())
		fmt.Printf("Saved to: %s\n", genKeyPath)
		return
	}

	if *genCerts != "" {
		cfgForCerts, err := loadConfig(*cfgPath)
		if err != nil {
			log.Fatalf("config: %v", err)
		}
		if err := certgen.GenerateAll(*genCerts, cfgForCerts.NodeID, nil); err != nil {
			log.Fatalf("gencerts: %v", err)
		}
		fmt.Printf("Certificates generated in %s for node %q\n", *genCerts, cfgForCerts.NodeID)
		return
	}

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}

	// -key overrides the config's producer_key when given; otherwise the
	// config's keystore path is the one actually used to load the
	// validator's signing key.
	keyFile := cfg.ProducerKeyFile
	if *keyPath != "" {
		keyFile = *keyPath
	}
	privKey, err := wallet.LoadKey(keyFile, password)
	if err != nil {
		log.Fatalf("load key: %v", err)
	}
	self := wallet.New(privKey)

	validators, err := cfg.BuildValidatorSet()
	if err != nil {
		log.Fatalf("validator set: %v", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		log.Fatalf("mkdir data dir: %v", err)
	}

	st, err := store.New(cfg.DataDir+"/chain", cfg.SnapshotInterval)
	if err != nil {
		log.Fatalf("store init: %v", err)
	}

	// ---- recover or initialise state ----
	recovered, err := st.Recover(func(state *core.MemState, block core.Block) {
		tmpRT := runtime.New(state, runtime.NewMempool())
		tmpRT.ApplyBlock(block)
	})
	if err != nil {
		log.Fatalf("store recover: %v", err)
	}

	state := recovered.State
	genesisHash := ""
	if meta, ok, err := st.LoadMeta(); err == nil && ok {
		genesisHash = meta.GenesisHash
	}
	if recovered.LatestHeight == 0 {
		genesisHash, err = config.InitGenesisState(cfg, state)
		if err != nil {
			log.Fatalf("genesis: %v", err)
		}
		log.Printf("Genesis state initialised, identity hash: %s", genesisHash)
	}

	mempool := runtime.NewMempool()
	rt := runtime.New(state, mempool)

	// ---- events ----
	emitter := events.NewEmitter()

	// ---- secondary index ----
	idxDB, err := storage.NewLevelDB(cfg.DataDir + "/index")
	if err != nil {
		log.Fatalf("index db: %v", err)
	}
	defer idxDB.Close()
	idx := index.New(idxDB, emitter)

	// ---- TLS ----
	tlsCfg, err := config.LoadTLSConfig(cfg.TLS)
	if err != nil {
		log.Fatalf("tls: %v", err)
	}
	if tlsCfg != nil {
		log.Println("mTLS enabled for P2P")
	}

	// ---- network (transport.Transport implementation) ----
	p2pAddr := fmt.Sprintf(":%d", cfg.P2PPort)
	node := network.NewNode(cfg.NodeID, p2pAddr, tlsCfg)
	if err := node.Start(); err != nil {
		log.Fatalf("p2p start: %v", err)
	}
	defer node.Stop()
	log.Printf("P2P listening on %s", p2pAddr)

	for _, sp := range cfg.SeedPeers {
		if err := node.AddPeer(sp.ID, sp.Addr); err != nil {
			log.Printf("seed peer %s (%s): %v", sp.ID, sp.Addr, err)
			continue
		}
		log.Printf("Connected to seed peer %s (%s)", sp.ID, sp.Addr)
	}

	// ---- consensus engine ----
	timeouts := consensus.TimeoutParams{
		ProposeBase: cfg.Timeouts.ProposeBase(),
		PrevoteBase: cfg.Timeouts.PrevoteBase(),
		CommitBase:  cfg.Timeouts.CommitBase(),
		Delta:       cfg.Timeouts.Delta(),
	}
	engine := consensus.New(consensus.Config{
		Validators:     validators,
		SelfID:         self.ID(),
		PrivateKey:     privKey,
		Runtime:        rt,
		Store:          st,
		Transport:      node,
		Emitter:        emitter,
		Timeouts:       timeouts,
		MaxTxsPerBlock: cfg.MaxTxsPerBlock,
		ChainID:        cfg.Genesis.ChainID,
		GenesisHash:    genesisHash,
	})
	if recovered.HasRoundState {
		engine.Resume(recovered.RoundState)
		log.Printf("Resumed in-flight round: height=%d round=%d", recovered.RoundState.Height, recovered.RoundState.Round)
	}

	// ---- RPC ----
	rpcAddr := fmt.Sprintf(":%d", cfg.RPCPort)
	rpcHandler := rpc.NewHandler(rt, st, idx, cfg.Genesis.ChainID)
	rpcServer := rpc.NewServer(rpcAddr, rpcHandler, cfg.RPCAuthToken)
	if err := rpcServer.Start(); err != nil {
		log.Fatalf("rpc start: %v", err)
	}
	defer rpcServer.Stop()
	log.Printf("RPC listening on %s", rpcAddr)
	if cfg.RPCAuthToken != "" {
		log.Println("RPC Bearer token authentication enabled")
	}

	// ---- wire verified-message channels between the transport and the engine ----
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	proposalCh := make(chan verifier.VerifiedProposal, 64)
	prevoteCh := make(chan verifier.VerifiedPrevote, 64)
	commitCh := make(chan verifier.VerifiedCommit, 64)
	verifyInbound(ctx, node, validators, proposalCh, prevoteCh, commitCh)
	go admitInboundTxs(ctx, node, mempool, rt)

	go engine.Run(ctx, proposalCh, prevoteCh, commitCh)
	log.Printf("Consensus running (validator: %s)", self.PubKey())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Println("Shutting down...")

	cancel()
	log.Println("Shutdown complete.")
}

// verifyInbound spawns one goroutine per consensus topic, decoding and
// verifying raw transport payloads and forwarding accepted messages to
// the engine's typed channels. Invalid payloads (bad signature, wrong
// format, unknown validator) are dropped silently — transport delivery
// is best-effort, so a malformed frame is indistinguishable from one
// that never arrived.
func verifyInbound(ctx context.Context, tr transport.Transport, vs *core.ValidatorSet, proposalCh chan<- verifier.VerifiedProposal, prevoteCh chan<- verifier.VerifiedPrevote, commitCh chan<- verifier.VerifiedCommit) {
	go func() {
		in := tr.Inbound(transport.TopicProposal)
		for {
			select {
			case <-ctx.Done():
				return
			case payload := <-in:
				if vp, err := verifier.VerifyProposalPayload(payload, vs); err == nil {
					select {
					case proposalCh <- vp:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	go func() {
		in := tr.Inbound(transport.TopicPrevote)
		for {
			select {
			case <-ctx.Done():
				return
			case payload := <-in:
				if vv, err := verifier.VerifyPrevotePayload(payload, vs); err == nil {
					select {
					case prevoteCh <- vv:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	go func() {
		in := tr.Inbound(transport.TopicCommit)
		for {
			select {
			case <-ctx.Done():
				return
			case payload := <-in:
				if vc, err := verifier.VerifyCommitPayload(payload, vs); err == nil {
					select {
					case commitCh <- vc:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
}

// admitInboundTxs verifies and admits transactions relayed over the
// network's TopicTx channel, the same path submitTransaction uses for
// locally submitted ones.
func admitInboundTxs(ctx context.Context, tr transport.Transport, mempool *runtime.Mempool, rt *runtime.Runtime) {
	in := tr.Inbound(transport.TopicTx)
	for {
		select {
		case <-ctx.Done():
			return
		case payload := <-in:
			vtx, err := verifier.VerifyTransaction(payload)
			if err != nil {
				continue
			}
			if err := mempool.Admit(vtx, rt.State()); err != nil {
				log.Printf("[node] rejected relayed tx: %v", err)
			}
		}
	}
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Printf("Config file not found at %s, using defaults.", path)
			return config.DefaultConfig(), nil
		}
		return nil, err
	}
	return cfg, nil
}
