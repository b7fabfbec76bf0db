package project

// Scaffolding contents written by init. The TypeScript driver template is
// also used at execution time to build the temporary run context for
// typescript data migrations; %s is replaced with the echo-SQL flag.
// SampleMigrationTS, SamplePythonFile and SampleShellFile are example
// migration bodies that no command writes.

const SampleGitIgnore = `node_modules/
.env
*.log
`

const SamplePreCommit = `#!/bin/sh
# Verify migration plan integrity before committing.
sdm check integrity --fast
`

const SampleDotEnv = `MYSQL_PWD=%s
`

const SamplePackageJSON = `{
    "name": "sdm-data-migrations",
    "private": true,
    "scripts": {
        "build": "tsc"
    },
    "dependencies": {
        "mysql2": "^3.6.0"
    },
    "devDependencies": {
        "typescript": "^5.2.0"
    }
}
`

const SampleTSConfigJSON = `{
    "compilerOptions": {
        "target": "es2020",
        "module": "commonjs",
        "outDir": ".",
        "rootDir": "..",
        "strict": true,
        "esModuleInterop": true
    },
    "include": ["src/**/*"]
}
`

// SampleIndexTS drives a user-supplied migration.ts: it opens a connection
// from the subprocess contract variables, invokes the exported run
// function, and exits non-zero on failure.
const SampleIndexTS = `import * as mysql from "mysql2/promise";
import { run } from "./migration";

async function main() {
    const conn = await mysql.createConnection({
        host: process.env.HOST,
        port: Number(process.env.PORT),
        user: process.env.USER,
        password: process.env.MYSQL_PWD,
        database: process.env.SCHEMA,
        multipleStatements: true,
        debug: %s,
    });
    try {
        await run(conn);
    } finally {
        await conn.end();
    }
}

main().catch((err) => {
    console.error(err);
    process.exit(1);
});
`

const SampleMigrationTS = `import * as mysql from "mysql2/promise";

export async function run(conn: mysql.Connection): Promise<void> {
    // await conn.query("INSERT INTO testtable (id, name) VALUES (1, 'foo.bar')");
}
`

const SamplePythonFile = `import os

import pymysql


def main():
    conn = pymysql.connect(
        host=os.environ["HOST"],
        port=int(os.environ["PORT"]),
        user=os.environ["USER"],
        password=os.environ["MYSQL_PWD"],
        database=os.environ["SCHEMA"],
    )
    with conn:
        with conn.cursor() as cur:
            # cur.execute("INSERT INTO testtable (id, name) VALUES (1, 'foo.bar')")
            pass
        conn.commit()


if __name__ == "__main__":
    main()
`

const SampleShellFile = `#!/bin/sh
set -e

mysql -h "$HOST" -P "$PORT" -u "$USER" "$SCHEMA" <<'SQL'
-- INSERT INTO testtable (id, name) VALUES (1, 'foo.bar');
SQL
`
