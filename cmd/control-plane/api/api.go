// Package api implements the control plane's REST handlers: the CRUD
// surface over the CPS plus the lifecycle endpoints that forward to the
// scheduler/dispatcher.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/qarax/qarax/cmd/control-plane/config"
	"github.com/qarax/qarax/lib/cpstore"
	mw "github.com/qarax/qarax/lib/middleware"
	"github.com/qarax/qarax/lib/scheduler"
	"github.com/qarax/qarax/lib/transfer"
)

// Deployer is the host-provisioner surface the deploy endpoint drives.
// Production wires hostprovisioner.Provisioner; tests substitute a fake so
// no SSH session is opened.
type Deployer interface {
	Deploy(ctx context.Context, hostID, imageRef string, reboot bool) error
}

// TransferRunner executes one transfer asynchronously.
type TransferRunner interface {
	Run(ctx context.Context, transferID, objectName, objectType string)
}

// ApiService holds the control plane's REST dependencies.
type ApiService struct {
	Config    *config.Config
	Store     *cpstore.Store
	Scheduler *scheduler.Scheduler
	Deployer  Deployer
	Transfers TransferRunner
}

func New(cfg *config.Config, store *cpstore.Store, sched *scheduler.Scheduler, deployer Deployer, transfers *transfer.Runner) *ApiService {
	return &ApiService{
		Config:    cfg,
		Store:     store,
		Scheduler: sched,
		Deployer:  deployer,
		Transfers: transfers,
	}
}

// NewResolvers wires the store-backed resolvers the ResolveResource
// middleware consults for each path-parameter lookup.
func (s *ApiService) NewResolvers() mw.Resolvers {
	return mw.Resolvers{
		VM:          cpstore.VMResolver{Store: s.Store},
		Host:        cpstore.HostResolver{Store: s.Store},
		StoragePool: cpstore.StoragePoolResolver{Store: s.Store},
		StorageObj:  cpstore.StorageObjectResolver{Store: s.Store},
		BootSource:  cpstore.BootSourceResolver{Store: s.Store},
		Job:         cpstore.JobResolver{Store: s.Store},
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
