package rpc

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/tolelom/quorumchain/core"
	"github.com/tolelom/quorumchain/index"
	"github.com/tolelom/quorumchain/runtime"
	"github.com/tolelom/quorumchain/store"
	"github.com/tolelom/quorumchain/verifier"
)

// Handler holds all dependencies needed to serve RPC methods.
type Handler struct {
	rt      *runtime.Runtime
	st      *store.Store
	idx     *index.Index
	chainID string
}

// NewHandler creates an RPC Handler.
func NewHandler(rt *runtime.Runtime, st *store.Store, idx *index.Index, chainID string) *Handler {
	return &Handler{rt: rt, st: st, idx: idx, chainID: chainID}
}

// Dispatch routes an RPC request to the correct method.
func (h *Handler) Dispatch(req Request) Response {
	switch req.Method {
	case "getHeight":
		return okResponse(req.ID, h.rt.State().Height())

	case "getBlock":
		return h.getBlock(req)

	case "getAccount":
		return h.getAccount(req)

	case "getMempoolSize":
		return okResponse(req.ID, h.rt.Mempool().Size())

	case "getFinalityCertificate":
		return h.getFinalityCertificate(req)

	case "getTransactionsByAddress":
		return h.getTransactionsByAddress(req)

	case "submitTransaction":
		return h.submitTransaction(req)

	default:
		return errResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("method %q not found", req.Method))
	}
}

func (h *Handler) getBlock(req Request) Response {
	var params struct {
		Height uint64 `json:"height"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, "params: "+err.Error())
	}
	block, err := h.st.LoadBlock(params.Height)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, block)
}

func (h *Handler) getAccount(req Request) Response {
	var params struct {
		Address string `json:"address"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	addrBytes, err := hex.DecodeString(params.Address)
	if err != nil {
		return errResponse(req.ID, CodeInvalidParams, "address must be a 64-char hex pubkey")
	}
	id, ok := core.ValidatorIdFromBytes(addrBytes)
	if !ok {
		return errResponse(req.ID, CodeInvalidParams, "address must be a 64-char hex pubkey")
	}
	acc := h.rt.State().GetAccount(id)
	return okResponse(req.ID, acc)
}

func (h *Handler) getFinalityCertificate(req Request) Response {
	var params struct {
		Height uint64 `json:"height"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	fc, err := h.st.LoadFinality(params.Height)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, fc)
}

func (h *Handler) getTransactionsByAddress(req Request) Response {
	var params struct {
		Address string `json:"address"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	addrBytes, err := hex.DecodeString(params.Address)
	if err != nil || len(addrBytes) != 32 {
		return errResponse(req.ID, CodeInvalidParams, "address must be a 64-char hex pubkey")
	}
	ids, err := h.idx.TransactionsByAddress(params.Address)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, map[string][]string{"tx_ids": ids})
}

func (h *Handler) submitTransaction(req Request) Response {
	var params struct {
		Payload string `json:"payload"` // hex-encoded wire transaction
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	payload, err := hex.DecodeString(params.Payload)
	if err != nil {
		return errResponse(req.ID, CodeInvalidParams, "payload must be hex-encoded")
	}

	vtx, err := verifier.VerifyTransaction(payload)
	if err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if err := h.rt.Mempool().Admit(vtx, h.rt.State()); err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	id := vtx.Tx().ID()
	return okResponse(req.ID, map[string]string{"tx_id": hex.EncodeToString(id[:])})
}
