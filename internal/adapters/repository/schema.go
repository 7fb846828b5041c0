package repository

// TableName is the sightings table.
const TableName = "pokemon_sightings"

const postgresSchema = `
CREATE TABLE IF NOT EXISTS pokemon_sightings (
	id              BIGSERIAL PRIMARY KEY,
	pokemon_id      INTEGER          NOT NULL,
	form            INTEGER          NOT NULL,
	latitude        DOUBLE PRECISION NOT NULL,
	longitude       DOUBLE PRECISION NOT NULL,
	iv              INTEGER,
	pvp_great_rank  INTEGER,
	pvp_little_rank INTEGER,
	pvp_ultra_rank  INTEGER,
	shiny           BOOLEAN          NOT NULL DEFAULT FALSE,
	area_name       TEXT             NOT NULL,
	despawn_time    BIGINT,
	inserted_at     TIMESTAMPTZ      NOT NULL DEFAULT NOW()
)`

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS pokemon_sightings (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	pokemon_id      INTEGER NOT NULL,
	form            INTEGER NOT NULL,
	latitude        REAL    NOT NULL,
	longitude       REAL    NOT NULL,
	iv              INTEGER,
	pvp_great_rank  INTEGER,
	pvp_little_rank INTEGER,
	pvp_ultra_rank  INTEGER,
	shiny           BOOLEAN NOT NULL DEFAULT 0,
	area_name       TEXT    NOT NULL,
	despawn_time    INTEGER,
	inserted_at     TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

const insertSightings = `
INSERT INTO pokemon_sightings (
	pokemon_id, form, latitude, longitude, iv,
	pvp_great_rank, pvp_little_rank, pvp_ultra_rank,
	shiny, area_name, despawn_time
) VALUES (
	:pokemon_id, :form, :latitude, :longitude, :iv,
	:pvp_great_rank, :pvp_little_rank, :pvp_ultra_rank,
	:shiny, :area_name, :despawn_time
)`
