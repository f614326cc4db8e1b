package api

import "github.com/go-chi/chi/v5"

// Routes mounts the validated REST surface. Patterns are registered flat
// (no subrouter mounts) so the websocket job watch, which main registers
// separately to skip the OpenAPI validator, can share the /jobs subtree.
func (s *ApiService) Routes(r chi.Router) {
	r.Get("/hosts", s.ListHosts)
	r.Post("/hosts", s.CreateHost)
	r.Get("/hosts/{id}", s.GetHost)
	r.Patch("/hosts/{id}", s.PatchHost)
	r.Delete("/hosts/{id}", s.DeleteHost)
	r.Post("/hosts/{id}/deploy", s.DeployHost)

	r.Get("/vms", s.ListVms)
	r.Post("/vms", s.CreateVm)
	r.Get("/vms/{id}", s.GetVm)
	r.Delete("/vms/{id}", s.DeleteVm)
	r.Post("/vms/{id}/start", s.StartVm)
	r.Post("/vms/{id}/stop", s.StopVm)
	r.Post("/vms/{id}/pause", s.PauseVm)
	r.Post("/vms/{id}/resume", s.ResumeVm)
	r.Post("/vms/{id}/networks", s.AddVmNetwork)
	r.Delete("/vms/{id}/networks/{deviceId}", s.RemoveVmNetwork)
	r.Post("/vms/{id}/disks", s.AddVmDisk)
	r.Delete("/vms/{id}/disks/{deviceId}", s.RemoveVmDisk)

	r.Get("/boot-sources", s.ListBootSources)
	r.Post("/boot-sources", s.CreateBootSource)
	r.Get("/boot-sources/{id}", s.GetBootSource)
	r.Delete("/boot-sources/{id}", s.DeleteBootSource)

	r.Get("/storage-pools", s.ListStoragePools)
	r.Post("/storage-pools", s.CreateStoragePool)
	r.Get("/storage-pools/{id}", s.GetStoragePool)
	r.Delete("/storage-pools/{id}", s.DeleteStoragePool)

	r.Get("/storage-objects", s.ListStorageObjects)
	r.Post("/storage-objects", s.CreateStorageObject)
	r.Get("/storage-objects/{id}", s.GetStorageObject)
	r.Delete("/storage-objects/{id}", s.DeleteStorageObject)

	r.Get("/transfers", s.ListTransfers)
	r.Post("/transfers", s.CreateTransfer)
	r.Get("/transfers/{id}", s.GetTransfer)

	r.Get("/jobs", s.ListJobs)
	r.Get("/jobs/{id}", s.GetJob)
}
