// Package all registers every concrete provider with the default registry.
// Hosts import it for side effect:
//
//	import _ "github.com/aeroftp/aerocore/pkg/provider/all"
//
// and then build providers through provider.New. Importing individual
// provider packages instead keeps binaries smaller when only a few
// protocols are needed.
package all

import (
	_ "github.com/aeroftp/aerocore/pkg/provider/ftp"
	_ "github.com/aeroftp/aerocore/pkg/provider/gdrive"
	_ "github.com/aeroftp/aerocore/pkg/provider/internxt"
	_ "github.com/aeroftp/aerocore/pkg/provider/jottacloud"
	_ "github.com/aeroftp/aerocore/pkg/provider/kdrive"
	_ "github.com/aeroftp/aerocore/pkg/provider/s3"
	_ "github.com/aeroftp/aerocore/pkg/provider/sftp"
	_ "github.com/aeroftp/aerocore/pkg/provider/webdav"
	_ "github.com/aeroftp/aerocore/pkg/provider/zoho"
)
