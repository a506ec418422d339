package aitask

import (
	"go.uber.org/fx"

	"wecodesec-tools/pkg/minio"
)

var Module = fx.Module("aitask.module",
	fx.Provide(
		NewRepository,
		NewService,
		ProvideArchiver,
	),
)

var Server = fx.Module("aitask.server",
	Module,
	fx.Provide(NewHandler),
	fx.Invoke(RegisterRoutes),
)

type ArchiverParams struct {
	fx.In
	Archive *minio.Archive `optional:"true"`
}

// ProvideArchiver exposes the MinIO archive when one is configured. A nil
// *minio.Archive must not become a non-nil Archiver.
func ProvideArchiver(p ArchiverParams) Archiver {
	if p.Archive == nil {
		return nil
	}
	return p.Archive
}
